package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"dronerace/broker/internal/replay"
)

func main() {
	path := flag.String("path", "", "Path to a flight directory or manifest.json")
	root := flag.String("list", "", "List the closed flights below this directory instead")
	poses := flag.Bool("poses", true, "Decode frame payloads into poses")
	flag.Parse()

	var payload interface{}
	switch {
	case *root != "":
		entries, err := replay.List(*root)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(2)
		}
		payload = entries
	case *path != "":
		bundle, err := replay.ReadBundle(*path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(2)
		}
		if !*poses {
			payload = bundle
			break
		}
		decoded, err := bundle.Poses()
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(2)
		}
		payload = struct {
			Manifest replay.Manifest `json:"manifest"`
			Header   replay.Header   `json:"header"`
			Events   []replay.Event  `json:"events"`
			Poses    []replay.Pose   `json:"poses"`
		}{bundle.Manifest, bundle.Header, bundle.Events, decoded}
	default:
		fmt.Fprintln(os.Stderr, "either -path or -list is required")
		os.Exit(1)
	}

	//1.- Render as JSON so callers can pipe the output elsewhere.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}
