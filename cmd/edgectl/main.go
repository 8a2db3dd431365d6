// Command edgectl is a small client for poking a running edge's HTTP API
// from a terminal: get/put/delete a single key, without standing up a
// whole application just to exercise one edge.
//
// Usage:
//
//	edgectl --addr http://127.0.0.1:7700 get mykey
//	edgectl --addr http://127.0.0.1:7700 put mykey < value.bin
//	echo -n hello | edgectl put mykey
//	edgectl --addr http://127.0.0.1:7700 del mykey
package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	flag "github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, os.Stdin))
}

func run(args []string, out, errOut io.Writer, in io.Reader) int {
	flagSet := flag.NewFlagSet("edgectl", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	addr := flagSet.StringP("addr", "a", "http://127.0.0.1:7700", "edge client API base address")
	timeout := flagSet.DurationP("timeout", "t", 5*time.Second, "request timeout")
	help := flagSet.BoolP("help", "h", false, "show usage")

	if err := flagSet.Parse(args); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 2
	}
	if *help {
		printUsage(out)
		return 0
	}

	rest := flagSet.Args()
	if len(rest) < 2 {
		printUsage(errOut)
		return 2
	}

	cmd, key := rest[0], rest[1]
	client := &http.Client{Timeout: *timeout}
	url := fmt.Sprintf("%s/object/%s", *addr, key)

	switch cmd {
	case "get":
		return cmdGet(client, url, out, errOut)
	case "put":
		return cmdPut(client, url, in, out, errOut)
	case "del", "delete":
		return cmdDelete(client, url, out, errOut)
	default:
		fmt.Fprintf(errOut, "error: unknown command %q\n", cmd)
		printUsage(errOut)
		return 2
	}
}

func cmdGet(client *http.Client, url string, out, errOut io.Writer) int {
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "error: %s\n", resp.Status)
		return 1
	}
	if hit := resp.Header.Get("X-Covered-Hit"); hit != "" {
		fmt.Fprintf(errOut, "hit: %s\n", hit)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	return 0
}

func cmdPut(client *http.Client, url string, in io.Reader, out, errOut io.Writer) int {
	body, err := io.ReadAll(in)
	if err != nil {
		fmt.Fprintln(errOut, "error: reading stdin:", err)
		return 1
	}
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		fmt.Fprintf(errOut, "error: %s\n", resp.Status)
		return 1
	}
	fmt.Fprintln(out, "ok")
	return 0
}

func cmdDelete(client *http.Client, url string, out, errOut io.Writer) int {
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		fmt.Fprintf(errOut, "error: %s\n", resp.Status)
		return 1
	}
	fmt.Fprintln(out, "ok")
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: edgectl [--addr http://host:port] [--timeout 5s] <get|put|del> <key>")
	fmt.Fprintln(w, "  get  - print value to stdout")
	fmt.Fprintln(w, "  put  - read value from stdin")
	fmt.Fprintln(w, "  del  - delete key")
}
