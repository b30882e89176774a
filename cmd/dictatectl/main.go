package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// dictatectl drives a running loqa-dictated over its control API. Bind it to
// a hotkey: "dictatectl start" on press, "dictatectl stop" on release.

func main() {
	var addr string
	flag.StringVar(&addr, "addr", "http://127.0.0.1:8099", "Daemon control address")
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		fmt.Fprintln(os.Stderr, "usage: dictatectl [-addr URL] start|stop|cancel|status")
		os.Exit(2)
	}

	client := &http.Client{Timeout: 30 * time.Second}

	var resp *http.Response
	var err error
	switch command {
	case "start", "stop", "cancel":
		resp, err = client.Post(addr+"/v1/session/"+command, "application/json", nil)
	case "status":
		resp, err = client.Get(addr + "/v1/session")
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Print(string(body))
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}
