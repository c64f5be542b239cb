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
	"encoding/json"
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Timestamp string          `json:"timestamp"`
	Scheduler schedulerHealth `json:"scheduler"`
	Registry  registryHealth  `json:"registry"`
	RPC       rpcHealth       `json:"rpc"`
}

type schedulerHealth struct {
	ActiveJobs int `json:"activeJobs"`
}

type registryHealth struct {
	TotalTools     int `json:"totalTools"`
	ExposableCount int `json:"exposableCount"`
}

type rpcHealth struct {
	ToolCount int `json:"toolCount"`
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Version:   d.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Scheduler: schedulerHealth{ActiveJobs: d.scheduler.JobCount()},
		Registry: registryHealth{
			TotalTools:     len(d.registry.List()),
			ExposableCount: len(d.registry.ListExposable()),
		},
		RPC: rpcHealth{ToolCount: d.rpc.ToolCount()},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
