package discovery

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cosim-bus/cosim-go/pkg/version"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeTXT creates the TXT records for an attach point.
func EncodeTXT(ap AttachPoint) TXTRecordMap {
	return TXTRecordMap{
		TXTKeyName:    ap.Name,
		TXTKeyVersion: ap.Version,
	}
}

// DecodeTXT parses attach point TXT records into name and version.
func DecodeTXT(txt TXTRecordMap) (string, string, error) {
	name, ok := txt[TXTKeyName]
	if !ok || name == "" {
		return "", "", fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyName)
	}
	ver, ok := txt[TXTKeyVersion]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	if _, err := version.Parse(ver); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidTXTRecord, err)
	}
	return name, ver, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value"
// strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if found {
			txt[k] = v
		} else if k != "" {
			// Key without value (boolean flag)
			txt[k] = ""
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
