// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

import (
	stderrors "errors"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/tombee/relay/internal/lifecycle"
	"github.com/tombee/relay/pkg/errors"
)

// reclaimWait bounds how long we wait for a previous instance to release
// the port after SIGTERM.
const reclaimWait = 10 * time.Second

// listen binds the configured address. When the port is held by a
// previous relayd instance (identified through the PID file), that
// instance is terminated and the bind retried once.
func (d *Daemon) listen() (net.Listener, error) {
	addr := d.cfg.Listen.Addr

	listener, err := net.Listen("tcp", addr)
	if err == nil {
		return listener, nil
	}
	if !stderrors.Is(err, syscall.EADDRINUSE) || d.cfg.Daemon.PIDFile == "" {
		return nil, errors.Wrapf(err, "binding %s", addr)
	}

	pid, readErr := lifecycle.ReadPID(d.cfg.Daemon.PIDFile)
	if readErr != nil || !lifecycle.IsRunning(pid) {
		// Port held by something that is not ours to kill.
		return nil, errors.Wrapf(err, "binding %s", addr)
	}

	d.logger.Warn("address in use by previous instance, reclaiming",
		slog.String("addr", addr),
		slog.Int("pid", pid))
	if termErr := lifecycle.Terminate(pid, reclaimWait); termErr != nil {
		return nil, errors.Wrapf(termErr, "terminating previous instance (pid %d)", pid)
	}

	listener, err = net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "binding %s after reclaim", addr)
	}
	return listener, nil
}
