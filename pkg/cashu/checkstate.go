package cashu

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"lol.mleku.dev/chk"
	"lol.mleku.dev/errorf"
)

// State is a proof's spend status as reported by a mint.
type State string

const (
	StateUnspent State = "UNSPENT"
	StatePending State = "PENDING"
	StateSpent   State = "SPENT"
)

// StateEntry is one element of a /v1/checkstate response.
type StateEntry struct {
	Y       string `json:"Y"`
	State   State  `json:"state"`
	Witness string `json:"witness,omitempty"`
}

type checkStateRequest struct {
	Ys []string `json:"Ys"`
}

type checkStateResponse struct {
	States []StateEntry `json:"states"`
}

// CheckState POSTs the given Y-points to mintURL's /v1/checkstate endpoint
// and returns the reported state of each.
func CheckState(
	ctx context.Context, mintURL string, ys []string,
) (states []StateEntry, err error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}
	var body []byte
	if body, err = json.Marshal(checkStateRequest{Ys: ys}); chk.E(err) {
		return
	}
	var req *http.Request
	if req, err = http.NewRequestWithContext(
		ctx, http.MethodPost, mintURL+"/v1/checkstate", bytes.NewReader(body),
	); chk.E(err) {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	var resp *http.Response
	if resp, err = http.DefaultClient.Do(req); chk.E(err) {
		err = errorf.E("cashu: checkstate request to %s failed: %w", mintURL, err)
		return
	}
	defer func() { chk.E(resp.Body.Close()) }()
	if resp.StatusCode/100 == 5 {
		err = errorf.E("cashu: mint %s returned %d", mintURL, resp.StatusCode)
		return
	}
	var b []byte
	if b, err = io.ReadAll(resp.Body); chk.E(err) {
		return
	}
	var out checkStateResponse
	if err = json.Unmarshal(b, &out); chk.E(err) {
		return
	}
	states = out.States
	return
}
