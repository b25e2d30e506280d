package helper

import (
	"regexp"
	"strings"

	om "github.com/cevaris/ordered_map"
	"github.com/espejodata/espejo/logger"
)

// OrderedMapValuesToStringSlice copies the values of the supplied ordered map into slice l starting at
// position idx, advancing idx per value copied so multiple maps can fill one slice.
func OrderedMapValuesToStringSlice(log logger.Logger, om *om.OrderedMap, l *[]string, idx *int) {
	iter := om.IterFunc()
	if iter == nil {
		log.Panic("Failed to get iterFunc in OrderedMapValuesToStringSlice()")
	}
	for kv, ok := iter(); ok; kv, ok = iter() {
		(*l)[*idx] = kv.Value.(string)
		*idx++
	}
}

// GetTrueFalseStringAsBool trims spaces from s and checks if it can regexp (case insensitive) match "true".
// It returns true if there's a match else false.
func GetTrueFalseStringAsBool(s string) bool {
	re := regexp.MustCompile("(?i)true")
	s = strings.TrimSpace(s)
	if re.MatchString(s) {
		return true
	} else {
		return false
	}
}
