// vaultctl is a small command line client for the vault API.
//
// Usage:
//
//	vaultctl -server http://localhost:8080 -user alice upload ./report.pdf
//	vaultctl -user alice list
//	vaultctl -user alice delete <file-id>
//	vaultctl -user alice stats
//	vaultctl -user alice types
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

type validationError struct {
	Arg   string
	Cause string
}

func (e *validationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

type client struct {
	server string
	userID string
	http   *http.Client
}

func main() {
	server := flag.String("server", "http://localhost:8080", "vault server base URL")
	user := flag.String("user", "", "user id (sent as the UserId header)")
	flag.Parse()

	args := flag.Args()
	if *user == "" {
		fmt.Fprintln(os.Stderr, "Error: -user is required")
		os.Exit(1)
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no command given (upload|list|delete|stats|types)")
		os.Exit(1)
	}

	c := &client{server: *server, userID: *user, http: http.DefaultClient}

	var err error
	switch cmd := args[0]; cmd {
	case "upload":
		if len(args) < 2 {
			err = &validationError{Arg: cmd, Cause: "upload needs a file path"}
		} else {
			err = c.upload(args[1])
		}
	case "list":
		err = c.get("/api/files")
	case "delete":
		if len(args) < 2 {
			err = &validationError{Arg: cmd, Cause: "delete needs a file id"}
		} else {
			err = c.delete(args[1])
		}
	case "stats":
		err = c.get("/api/files/storage_stats")
	case "types":
		err = c.get("/api/files/file_types")
	default:
		err = &validationError{Arg: cmd, Cause: "unknown command"}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (c *client) upload(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &validationError{Arg: path, Cause: "not found or not accessible"}
	}
	if info.IsDir() {
		return &validationError{Arg: path, Cause: "is a directory"}
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(form.Close())
	}()

	req, err := http.NewRequest(http.MethodPost, c.server+"/api/files", pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	return c.do(req)
}

func (c *client) get(path string) error {
	req, err := http.NewRequest(http.MethodGet, c.server+path, nil)
	if err != nil {
		return err
	}
	return c.do(req)
}

func (c *client) delete(id string) error {
	req, err := http.NewRequest(http.MethodDelete, c.server+"/api/files/"+id, nil)
	if err != nil {
		return err
	}
	return c.do(req)
}

func (c *client) do(req *http.Request) error {
	req.Header.Set("UserId", c.userID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s: %s", resp.Status, body)
	}

	if len(body) == 0 {
		fmt.Println("OK")
		return nil
	}

	// Pretty-print JSON responses, pass anything else through.
	var pretty json.RawMessage
	if json.Unmarshal(body, &pretty) == nil {
		out, err := json.MarshalIndent(pretty, "", "  ")
		if err == nil {
			fmt.Println(string(out))
			return nil
		}
	}
	fmt.Println(string(body))
	return nil
}
