package main

import (
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/services"
)

func newProgressBar(total int) services.Progress {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("importing charges"),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
