// Package firmware uploads firmware images to a device over plain HTTP.
// The device stages the image and applies it on the next reboot.
package firmware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const uploadPath = "/api/firmware"

// progressReader reports bytes pushed so far at every chunk boundary.
type progressReader struct {
	r      io.Reader
	sent   int64
	total  int64
	report func(sent, total int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.sent += int64(n)
		if p.report != nil {
			p.report(p.sent, p.total)
		}
	}
	return n, err
}

// Uploader pushes firmware images to one device.
type Uploader struct {
	log    *logrus.Logger
	client *http.Client
	// Progress, when set, is called after each chunk with the running byte
	// count and the image size.
	Progress func(sent, total int64)
}

func NewUploader(log *logrus.Logger) *Uploader {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &Uploader{log: log, client: &http.Client{}}
}

// Upload streams the image file to http://target:port/api/firmware as an
// octet-stream POST. The device holds the response until the image is
// staged, so the request deadline comes from ctx.
func (u *Uploader) Upload(ctx context.Context, target string, port int, file string) (int64, error) {
	f, err := os.Open(file)
	if err != nil {
		return 0, fmt.Errorf("open firmware image: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat firmware image: %w", err)
	}
	total := info.Size()
	if total == 0 {
		return 0, fmt.Errorf("firmware image %s is empty", file)
	}

	body := &progressReader{r: f, total: total, report: u.Progress}
	url := fmt.Sprintf("http://%s:%d%s", target, port, uploadPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return 0, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = total

	u.log.WithFields(logrus.Fields{"url": url, "bytes": total}).Info("uploading firmware")
	resp, err := u.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("upload firmware: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("device rejected firmware: %s: %s", resp.Status, msg)
	}
	return total, nil
}

// ConsoleProgress renders counts like "1,048,576 / 8,388,608 bytes" to w.
// It overwrites its own line, so it wants a terminal.
func ConsoleProgress(w io.Writer) func(sent, total int64) {
	p := message.NewPrinter(language.English)
	return func(sent, total int64) {
		p.Fprintf(w, "\r%d / %d bytes", sent, total)
		if sent >= total {
			fmt.Fprintln(w)
		}
	}
}
