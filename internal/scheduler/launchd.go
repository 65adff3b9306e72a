package scheduler

import (
	"fmt"
	"os"
	"os/exec"
	"text/template"
)

// Launchd manages a launchd user agent (spec.md §6 Schedulers). With
// WatchPath set the agent also fires on the backlog file changing; ForHost
// returns a Launchd with WatchPath empty, so that agent runs on
// StartInterval alone.
type Launchd struct {
	// WatchPath, if set, is the backlog file launchd watches. Empty means
	// interval-only (StartInterval) scheduling.
	WatchPath string
}

func (l *Launchd) Install(binPath, dbPath string, intervalMinutes int) error {
	path, err := plistPath()
	if err != nil {
		return err
	}
	tmpl, err := template.New("plist").Parse(plistTemplate)
	if err != nil {
		return fmt.Errorf("parsing launchd plist template: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	data := plistData{
		Label:           "com.pulseforge.supervisor",
		BinPath:         binPath,
		DBPath:          dbPath,
		IntervalSeconds: intervalMinutes * 60,
		WatchPath:       l.WatchPath,
	}
	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("rendering launchd plist: %w", err)
	}
	return exec.Command("launchctl", "load", path).Run()
}

func (l *Launchd) Uninstall() error {
	path, err := plistPath()
	if err != nil {
		return err
	}
	_ = exec.Command("launchctl", "unload", path).Run()
	return os.Remove(path)
}

func (l *Launchd) Status() (Status, error) {
	path, err := plistPath()
	if err != nil {
		return Status{Mechanism: "launchd"}, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Status{Mechanism: "launchd"}, nil
	}
	return Status{Installed: true, Mechanism: "launchd", Detail: path}, nil
}

type plistData struct {
	Label           string
	BinPath         string
	DBPath          string
	IntervalSeconds int
	WatchPath       string
}

const plistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.BinPath}}</string>
		<string>dispatch</string>
		<string>--db</string>
		<string>{{.DBPath}}</string>
	</array>
{{if .WatchPath}}	<key>WatchPaths</key>
	<array>
		<string>{{.WatchPath}}</string>
	</array>
{{else}}	<key>StartInterval</key>
	<integer>{{.IntervalSeconds}}</integer>
{{end}}	<key>RunAtLoad</key>
	<false/>
</dict>
</plist>
`
