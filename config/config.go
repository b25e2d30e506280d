package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"reflect"
	"strings"
	"sync"

	"github.com/espejodata/espejo/rdbms/shared"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v2"
)

var espejoHomeDir string
var Connections *File

func init() {
	Connections = NewConfigFileWithDir(mustGetConfigHomeDir(), ConnectionsFileFullName)
}

const (
	MainDir                 = ".espejo"
	ConnectionsFileFullName = "connections.yaml"
	DomainsFileFullName     = "domains.yaml"
)

// FileNotFoundError denotes failing to find a configuration file.
type FileNotFoundError struct {
	name string
}

func (f FileNotFoundError) Error() string {
	return fmt.Sprintf("config file %q not found", f.name)
}

type KeyNotFoundError struct {
	configFile string
	key        string
	err        error
}

func (k KeyNotFoundError) Error() string {
	if k.err != nil {
		return fmt.Sprintf("key %q not found in config file %q: %v", k.key, k.configFile, k.err)
	}
	return fmt.Sprintf("key %q not found in config file %q", k.key, k.configFile)
}

// File is a simple struct able to split file paths into the components to improve readability of code.
type File struct {
	Dirname      string
	FileName     string
	FileExt      string
	FullPath     string
	data         map[string]interface{}
	dataIsLoaded bool
	mu           sync.Mutex
}

func NewConfigFileWithDir(dirName string, filename string) *File {
	c := &File{Dirname: dirName, FileName: filename}
	c.FullPath = path.Join(dirName, filename)
	c.FileExt = strings.TrimLeft(path.Ext(filename), ".")
	c.data = make(map[string]interface{})
	return c
}

// Get will fetch the key from the config File into variable, out.
// Supported out types are: string, ConnectionDetails.
// Return an error if we can't find the key.
func (c *File) Get(key string, out interface{}) error {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr {
		return errors.New("out must be a pointer")
	}
	if !c.dataIsLoaded { // if we haven't loaded the data yet...
		var fnf FileNotFoundError
		if err := c.loadData(); err != nil && !errors.As(err, &fnf) { // if the error is not a missing file (handled below)...
			return err
		}
	}
	d, ok := c.data[key]
	if !ok { // if the key was not found...
		outIface := val.Elem().Interface()
		switch v := outIface.(type) {
		case string:
			if v == "" {
				return KeyNotFoundError{c.FullPath, key, fmt.Errorf("missing string value for key")}
			}
		case shared.ConnectionDetails:
			if reflect.DeepEqual(v, shared.ConnectionDetails{}) {
				return KeyNotFoundError{c.FullPath, key, fmt.Errorf("missing database connection")}
			}
		}
	}
	if err := mapstructure.Decode(d, out); err != nil {
		return err
	}
	return nil // we found the key so no error!
}

func (c *File) Set(key string, val interface{}) error {
	var fnf FileNotFoundError
	if !c.dataIsLoaded { // if we haven't loaded the data yet...
		if err := c.loadData(); err != nil && !errors.As(err, &fnf) { // if the error is not a missing file (we create it below)...
			return err
		}
	}
	c.data[key] = val
	b, err := yaml.Marshal(c.data)
	if err != nil {
		return fmt.Errorf("error marshalling data while writing key %v to config file %v: %v", key, c.FullPath, err)
	}
	if err = makeDir(c.Dirname); err != nil {
		return err
	}
	// Connection data carries credentials so keep the file private.
	return ioutil.WriteFile(c.FullPath, b, 0600)
}

func (c *File) Delete(key string) error {
	var fnf FileNotFoundError
	if !c.dataIsLoaded {
		if err := c.loadData(); err != nil && !errors.As(err, &fnf) {
			return err
		}
	}
	if _, keyExists := c.data[key]; keyExists {
		delete(c.data, key)
	} else {
		return errors.New("key not found")
	}
	b, err := yaml.Marshal(c.data)
	if err != nil {
		return fmt.Errorf("error marshalling data while writing key %v to config file %v: %v", key, c.FullPath, err)
	}
	return ioutil.WriteFile(c.FullPath, b, 0600)
}

func (c *File) GetAllKeys() ([]string, error) {
	var fnf FileNotFoundError
	if !c.dataIsLoaded {
		if err := c.loadData(); err != nil && !errors.As(err, &fnf) {
			return nil, err
		}
	}
	retval := make([]string, 0, len(c.data))
	for k := range c.data {
		retval = append(retval, k)
	}
	return retval, nil
}

func (c *File) loadData() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := ioutil.ReadFile(c.FullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return FileNotFoundError{name: c.FullPath}
		}
		return err
	}
	if err = yaml.Unmarshal(b, c.data); err != nil {
		return err
	}
	c.dataIsLoaded = true
	return nil
}
