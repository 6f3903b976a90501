package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/thatsimonsguy/trv-controller/internal/env"
	"github.com/thatsimonsguy/trv-controller/internal/model"
)

// WriteStartupScript renders the boot-time pin configuration script.
// Everything starts released; the current sense comparator is an
// input with its pull enabled.
func WriteStartupScript() error {
	var lines []string
	lines = append(lines, "#!/bin/bash", "", "# TRV GPIO pin configuration at boot", "")

	write := func(label string, pin model.GPIOPin, active bool) {
		drive := "dl"
		if pin.ActiveHigh == active {
			drive = "dh"
		}
		lines = append(lines, fmt.Sprintf("# %s", label))
		lines = append(lines, fmt.Sprintf("pinctrl set %d op pn %s", pin.Number, drive))
		lines = append(lines, "")
	}

	write("motor_open", env.Cfg.MotorOpenPin(), false)
	write("motor_close", env.Cfg.MotorClosePin(), false)
	write("status_led", env.Cfg.StatusLEDPin(), false)
	write("main_power", env.Cfg.MainPowerPin(), false)

	sense := env.Cfg.CurrentSensePin()
	lines = append(lines, "# current_sense")
	lines = append(lines, fmt.Sprintf("pinctrl set %d ip pd", sense.Number))
	lines = append(lines, "")

	contents := strings.Join(lines, "\n") + "\n"
	return os.WriteFile(env.Cfg.BootScriptFilePath, []byte(contents), 0755)
}

func InstallStartupService() error {
	unitContents := fmt.Sprintf(`[Unit]
Description=Configure GPIO pins at boot
After=network.target

[Service]
Type=oneshot
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s
RemainAfterExit=true

[Install]
WantedBy=multi-user.target
`, env.Cfg.BootScriptFilePath)

	return os.WriteFile(env.Cfg.OSServicePath, []byte(unitContents), 0644)
}

func RunStartupScript() error {
	cmd := exec.Command("/bin/bash", env.Cfg.BootScriptFilePath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func InstallControllerService() error {
	gpioUnitName := filepath.Base(env.Cfg.OSServicePath)

	user := "oebus"
	workdir := "/home/oebus/trv-controller"
	execCmd := "go run ./cmd/trv-controller/main.go"

	unit := fmt.Sprintf(`[Unit]
Description=TRV Controller main service
After=%s
Requires=%s

[Service]
Type=simple
User=%s
WorkingDirectory=%s
Environment=PATH=/usr/local/go/bin:/usr/local/bin:/usr/bin:/bin
ExecStart=/bin/bash -lc '%s'
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, gpioUnitName, gpioUnitName, user, workdir, execCmd)

	return os.WriteFile(env.Cfg.MainServicePath, []byte(unit), 0644)
}
