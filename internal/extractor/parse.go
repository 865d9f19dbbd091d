package extractor

import (
	"bufio"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

var errNoJSON = errors.New("no JSON object in extractor output")

// parseInfo finds the last JSON object line in stdout. yt-dlp prints one
// object per downloaded entry; progress noise may precede it.
func parseInfo(stdout string) (*Info, error) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, err
		}
		return &Info{Raw: raw, Filename: pickFilename(raw)}, nil
	}
	return nil, errNoJSON
}

// pickFilename returns the engine's idea of where the file went. It is often
// stale after post-processing renames the output.
func pickFilename(raw map[string]any) string {
	if reqs, ok := raw["requested_downloads"].([]any); ok && len(reqs) > 0 {
		if first, ok := reqs[0].(map[string]any); ok {
			if p, ok := first["filepath"].(string); ok && p != "" {
				return p
			}
		}
	}
	for _, key := range []string{"_filename", "filename"} {
		if p, ok := raw[key].(string); ok && p != "" {
			return p
		}
	}
	return ""
}

// lastErrorLine returns the last "ERROR:" line yt-dlp wrote to stderr.
func lastErrorLine(stderr string) string {
	var last string
	sc := bufio.NewScanner(strings.NewReader(stderr))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "ERROR:") {
			last = line
		}
	}
	return last
}

// audioQualityArg maps a bare bitrate such as "192" to yt-dlp's "192K".
// Values 0-10 are VBR levels and pass through.
func audioQualityArg(q string) string {
	n, err := strconv.Atoi(q)
	if err != nil || n <= 10 {
		return q
	}
	return q + "K"
}
