package fetch

import (
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
)

// progressReader logs how much of a body has been read every interval bytes.
type progressReader struct {
	r        io.Reader
	total    int64 // -1 when the server sent no Content-Length
	read     int64
	pending  int64
	interval int64
	logger   *slog.Logger
}

func newProgressReader(r io.Reader, total, interval int64, logger *slog.Logger) *progressReader {
	return &progressReader{r: r, total: total, interval: interval, logger: logger}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.pending += int64(n)

		if pr.interval > 0 && pr.pending >= pr.interval {
			pr.report()
			pr.pending = 0
		}
	}

	return n, err
}

func (pr *progressReader) report() {
	if pr.total > 0 {
		pr.logger.Debug("download progress",
			"downloaded", humanize.Bytes(uint64(pr.read)),
			"total", humanize.Bytes(uint64(pr.total)),
			"percent", humanize.FtoaWithDigits(float64(pr.read)*100/float64(pr.total), 2))

		return
	}

	pr.logger.Debug("download progress", "downloaded", humanize.Bytes(uint64(pr.read)))
}
