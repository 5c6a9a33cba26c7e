package replay

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Bundle is a flight read back from disk.
type Bundle struct {
	Manifest Manifest `json:"manifest"`
	// Header is the zero value when the flight was not closed cleanly.
	Header Header  `json:"header"`
	Events []Event `json:"events"`
	Frames []Frame `json:"frames"`
}

// Poses decodes every frame payload in order.
func (b Bundle) Poses() ([]Pose, error) {
	poses := make([]Pose, 0, len(b.Frames))
	for _, frame := range b.Frames {
		pose, err := frame.Pose()
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", frame.Tick, err)
		}
		poses = append(poses, pose)
	}
	return poses, nil
}

// ReadBundle loads a flight from its directory or manifest path.
func ReadBundle(path string) (Bundle, error) {
	if path == "" {
		return Bundle{}, fmt.Errorf("path is required")
	}

	//1.- Resolve the manifest so relative artefact paths work from either entry point.
	manifestPath := path
	info, err := os.Stat(path)
	if err != nil {
		return Bundle{}, err
	}
	if info.IsDir() {
		manifestPath = filepath.Join(path, manifestName)
	}
	dir := filepath.Dir(manifestPath)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return Bundle{}, err
	}
	var bundle Bundle
	if err := json.Unmarshal(data, &bundle.Manifest); err != nil {
		return Bundle{}, err
	}
	if bundle.Manifest.Version != 1 {
		return Bundle{}, fmt.Errorf("unsupported manifest version %d", bundle.Manifest.Version)
	}

	//2.- The header only exists once the writer closed; tolerate its absence.
	header, err := ReadHeader(filepath.Join(dir, headerName))
	switch {
	case err == nil:
		bundle.Header = header
	case !errors.Is(err, fs.ErrNotExist):
		return Bundle{}, err
	}

	if bundle.Events, err = readEvents(filepath.Join(dir, bundle.Manifest.EventsPath)); err != nil {
		return Bundle{}, err
	}
	if bundle.Frames, err = readFrames(filepath.Join(dir, bundle.Manifest.FramesPath)); err != nil {
		return Bundle{}, err
	}
	return bundle, nil
}

func readEvents(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var events []Event
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw eventRecord
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, err
		}
		captured, err := time.Parse(time.RFC3339Nano, raw.CapturedAt)
		if err != nil {
			return nil, err
		}
		payload, err := base64.StdEncoding.DecodeString(raw.PayloadB64)
		if err != nil {
			return nil, err
		}
		events = append(events, Event{
			Tick:        raw.Tick,
			SimulatedMs: raw.SimulatedMs,
			CapturedAt:  captured,
			Type:        raw.Type,
			Payload:     payload,
		})
	}
	return events, scanner.Err()
}

func readFrames(path string) ([]Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	return decodeFrames(payload)
}

// Entry is a catalogued flight.
type Entry struct {
	Directory string `json:"directory"`
	Header    Header `json:"header"`
}

// List returns every closed flight under root ordered by session id then directory.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	dirs, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(root, d.Name())
		header, err := ReadHeader(filepath.Join(dir, headerName))
		if errors.Is(err, fs.ErrNotExist) {
			//1.- Skip flights that are still being written.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", dir, err)
		}
		entries = append(entries, Entry{Directory: dir, Header: header})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Header.SessionID == entries[j].Header.SessionID {
			return entries[i].Directory < entries[j].Directory
		}
		return entries[i].Header.SessionID < entries[j].Header.SessionID
	})
	return entries, nil
}
