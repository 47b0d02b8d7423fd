package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

// APIBaseURL returns the node's HTTP address from DEFERD_HTTP or a default.
func APIBaseURL() string {
	if v := os.Getenv("DEFERD_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}

func postJSON(url string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(payload))
	}
	if len(bytes.TrimSpace(payload)) > 0 {
		fmt.Println(string(bytes.TrimSpace(payload)))
	} else {
		fmt.Println("status:", resp.Status)
	}
	return nil
}

func getJSON(url string, out any) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(payload))
	}
	return json.Unmarshal(payload, out)
}

// printJSON pretty-prints a decoded response for terminal use.
func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(b))
}
