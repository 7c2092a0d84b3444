package serialmux

import "strings"

// Line kinds reported by ClassifyLine.
const (
	LineCSI     = "csi_data"
	LineLog     = "log"
	LineUnknown = "unknown"
)

// ClassifyLine sorts a console line from the ESP32 receiver. CSI reports
// start with CSI_DATA; ESP-IDF log lines start with a level letter and an
// uptime in parentheses, like "I (1234) wifi: ...".
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "CSI_DATA"):
		return LineCSI
	case len(line) > 3 && strings.ContainsRune("EWIDV", rune(line[0])) && line[1] == ' ' && line[2] == '(':
		return LineLog
	default:
		return LineUnknown
	}
}
