package session

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	stateFileVersion = 1
	stateFileSuffix  = ".state"
	bufferSentinel   = "---BUFFER_DATA---"
)

// Codec encodes and decodes a single session Record to and from
// {state_dir}/{id}.state (spec.md §4.C).
type Codec struct {
	stateDir       string
	bufferCapacity int
}

// NewCodec returns a codec rooted at stateDir, restoring buffers at
// bufferCapacity.
func NewCodec(stateDir string, bufferCapacity int) *Codec {
	if bufferCapacity <= 0 {
		bufferCapacity = DefaultBufferCapacity
	}
	return &Codec{stateDir: stateDir, bufferCapacity: bufferCapacity}
}

// Path returns the checkpoint file path for id.
func (c *Codec) Path(id string) string {
	return filepath.Join(c.stateDir, id+stateFileSuffix)
}

// Save encodes r and writes it to a sibling temp file, then renames over
// the target path — a crash mid-write can never leave a truncated file in
// the target's place. This is an explicit improvement over the source
// (spec.md §4.C), which wrote directly to the target path.
func (c *Codec) Save(r *Record) error {
	meta := r.Describe()
	buf := r.Buffer().Snapshot()

	var out bytes.Buffer
	writeHeader(&out, "SESSION_VERSION", strconv.Itoa(stateFileVersion))
	writeHeader(&out, "ID", meta.ID)
	writeHeader(&out, "NAME", sanitizeHeaderValue(meta.Name))
	writeHeader(&out, "COMMAND", sanitizeHeaderValue(meta.Command))
	writeHeader(&out, "WORKING_DIR", sanitizeHeaderValue(meta.WorkingDirectory))
	writeHeader(&out, "CREATED_AT", strconv.FormatInt(meta.CreatedAt.Unix(), 10))
	writeHeader(&out, "LAST_ACCESSED", strconv.FormatInt(meta.LastAccessed.Unix(), 10))
	writeHeader(&out, "TERMINAL_COLS", strconv.FormatUint(uint64(meta.TerminalCols), 10))
	writeHeader(&out, "TERMINAL_ROWS", strconv.FormatUint(uint64(meta.TerminalRows), 10))
	writeHeader(&out, "PROCESS_PID", strconv.Itoa(meta.ProcessPID))
	writeHeader(&out, "TOTAL_BYTES", strconv.FormatUint(meta.TotalBytesWritten, 10))
	writeHeader(&out, "SAVE_COUNT", strconv.FormatUint(meta.SaveCount, 10))
	writeHeader(&out, "BUFFER_SIZE", strconv.Itoa(len(buf)))
	out.WriteString(bufferSentinel)
	out.WriteString("\n")
	out.Write(buf)

	if err := os.MkdirAll(c.stateDir, 0755); err != nil {
		return fmt.Errorf("session codec: create state dir: %w", err)
	}

	target := c.Path(meta.ID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, out.Bytes(), 0644); err != nil {
		return fmt.Errorf("session codec: write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("session codec: rename temp file: %w", err)
	}

	r.markSaved(time.Now())
	return nil
}

func writeHeader(out *bytes.Buffer, key, value string) {
	out.WriteString(key)
	out.WriteByte('=')
	out.WriteString(value)
	out.WriteByte('\n')
}

// Load decodes the checkpoint file for id. The id embedded in the file is
// cross-checked against the filename stem — a mismatch is ErrCorruptedState,
// as is a SESSION_VERSION newer than this codec understands, or a buffer
// segment shorter than the declared BUFFER_SIZE. Missing header fields take
// the documented defaults; unknown keys are ignored.
func (c *Codec) Load(id string) (*Record, error) {
	path := c.Path(id)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session codec: read %s: %w", path, err)
	}
	return c.decode(id, data)
}

func (c *Codec) decode(wantID string, data []byte) (*Record, error) {
	sentinelIdx := bytes.Index(data, []byte(bufferSentinel+"\n"))
	if sentinelIdx < 0 {
		return nil, fmt.Errorf("%w: missing %s sentinel", ErrCorruptedState, bufferSentinel)
	}
	header := data[:sentinelIdx]
	rest := data[sentinelIdx+len(bufferSentinel)+1:]

	fields := map[string]string{}
	scanner := bufio.NewScanner(bytes.NewReader(header))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		fields[line[:eq]] = line[eq+1:]
	}

	version, err := parseIntField(fields["SESSION_VERSION"], 1)
	if err != nil {
		return nil, fmt.Errorf("%w: bad SESSION_VERSION: %v", ErrCorruptedState, err)
	}
	if version > stateFileVersion {
		return nil, fmt.Errorf("%w: unsupported SESSION_VERSION %d", ErrCorruptedState, version)
	}

	id := fields["ID"]
	if id == "" {
		id = wantID
	}
	if id != wantID {
		return nil, fmt.Errorf("%w: file id %q does not match filename %q", ErrCorruptedState, id, wantID)
	}

	name := fields["NAME"]
	if name == "" {
		name = restoredName
	}
	command := fields["COMMAND"]
	if command == "" {
		command = defaultShell()
	}
	cwd := fields["WORKING_DIR"]
	if cwd == "" {
		cwd = defaultHome()
	}

	createdAt := parseUnixField(fields["CREATED_AT"])
	lastAccessed := parseUnixField(fields["LAST_ACCESSED"])
	cols := parseUint16Field(fields["TERMINAL_COLS"], defaultTerminalCols)
	rows := parseUint16Field(fields["TERMINAL_ROWS"], defaultTerminalRows)
	pid, _ := parseIntField(fields["PROCESS_PID"], 0)
	totalBytes := parseUint64Field(fields["TOTAL_BYTES"])
	saveCount := parseUint64Field(fields["SAVE_COUNT"])

	bufferSize := 0
	if v, ok := fields["BUFFER_SIZE"]; ok {
		bufferSize, _ = parseIntField(v, 0)
	}
	if bufferSize > len(rest) {
		return nil, fmt.Errorf("%w: buffer segment shorter than declared BUFFER_SIZE", ErrCorruptedState)
	}
	bufferBytes := rest[:bufferSize]
	if len(bufferBytes) > c.bufferCapacity {
		// Clamped to capacity, keeping the tail (the newest bytes).
		bufferBytes = bufferBytes[len(bufferBytes)-c.bufferCapacity:]
	}

	return newRestoredRecord(restoredFields{
		id:                id,
		name:              name,
		command:           command,
		workingDirectory:  cwd,
		createdAt:         createdAt,
		lastAccessed:      lastAccessed,
		terminalCols:      cols,
		terminalRows:      rows,
		processPID:        pid,
		totalBytesWritten: totalBytes,
		saveCount:         saveCount,
		bufferCapacity:    c.bufferCapacity,
		bufferBytes:       bufferBytes,
	}), nil
}

func parseIntField(v string, fallback int) (int, error) {
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, err
	}
	return n, nil
}

func parseUint64Field(v string) uint64 {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseUint16Field(v string, fallback uint16) uint16 {
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil || n == 0 {
		return fallback
	}
	return uint16(n)
}

func parseUnixField(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(n, 0)
}
