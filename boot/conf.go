package alpineami_boot

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

type keyValue struct {
	key   string
	value string
}

// setKeys replaces "key=..." lines, including commented out ones, and appends the missing keys.
func setKeys(data string, values []keyValue) string {
	for _, kv := range values {
		re := regexp.MustCompile(fmt.Sprintf(`(?m)^[# ]*%s=.*$`, regexp.QuoteMeta(kv.key)))
		line := fmt.Sprintf("%s=%s", kv.key, kv.value)
		if loc := re.FindStringIndex(data); loc != nil {
			data = data[:loc[0]] + line + data[loc[1]:]
			continue
		}
		if data != "" && !strings.HasSuffix(data, "\n") {
			data += "\n"
		}
		data += line + "\n"
	}
	return data
}

// readOptional returns an empty content for a file that does not exist yet
func readOptional(pth string) (string, error) {
	data, err := os.ReadFile(pth)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}
