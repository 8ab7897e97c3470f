package main

import (
	"fmt"
	"io"
	"net/http"
)

func runHealth(apiURL string, out io.Writer) error {
	resp, err := http.Get(apiURL + "/health")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n", data)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service reported unhealthy (http %d)", resp.StatusCode)
	}
	return nil
}

func runWorkerStatus(apiURL string, out io.Writer) error {
	resp, err := http.Get(apiURL + "/worker")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}
	_, err = io.Copy(out, resp.Body)
	return err
}

func runBootstrapWorker(apiURL string, out io.Writer) error {
	resp, err := http.Post(apiURL+"/worker", "application/json", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}
	_, err = io.Copy(out, resp.Body)
	return err
}
