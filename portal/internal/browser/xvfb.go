package browser

import (
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// startXvfb launches a virtual display sized to the browser window.
func (s *Session) startXvfb() error {
	if s.xvfb != nil {
		return nil
	}
	display := s.opts.XvfbDisplay
	screen := strconv.Itoa(s.opts.WindowWidth) + "x" + strconv.Itoa(s.opts.WindowHeight) + "x24"
	cmd := exec.Command("Xvfb", display, "-screen", "0", screen, "-ac")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	s.xvfb = cmd

	time.Sleep(500 * time.Millisecond)

	s.log.Info("browser: xvfb started", "display", display, "pid", cmd.Process.Pid)
	return nil
}

func (s *Session) stopXvfb() {
	if s.xvfb == nil {
		return
	}
	if s.xvfb.Process != nil {
		s.xvfb.Process.Kill()
		s.xvfb.Wait()
	}
	s.log.Info("browser: xvfb stopped")
	s.xvfb = nil
}
