package cashu

import (
	"context"
	"sync"

	"lol.mleku.dev/log"
)

// ProofsMessage is the WorkerToMain{Proofs{mint, proofs}} payload Run's
// reconciled output is serialized into before it reaches the dispatcher.
type ProofsMessage struct {
	Mint   string  `json:"mint"`
	Proofs []Proof `json:"proofs"`
}

// Verifier is the online token-state reconciliation loop described in the
// proof-verification pipe: it batches pending secrets per mint, queries
// /v1/checkstate, and sorts proofs into spent (dropped), unspent (emitted),
// or pending (retried next pass).
type Verifier struct {
	mu sync.Mutex

	maxProofs int

	tracked      map[string]Proof // secret -> proof
	trackedOrder []string         // insertion order, for oldest-eviction

	pendingVerifications map[string]struct{}  // secret set still to resolve
	pendingByMint        map[string][]string  // mint -> secrets awaiting checkstate
	mintOf               map[string]string    // secret -> mint, so eviction can clean pendingByMint

	running bool
}

// NewVerifier creates an empty Verifier. maxProofs bounds the tracked-proof
// set; when exceeded, the oldest tracked proof is evicted.
func NewVerifier(maxProofs int) *Verifier {
	return &Verifier{
		maxProofs:            maxProofs,
		tracked:              make(map[string]Proof),
		pendingVerifications: make(map[string]struct{}),
		pendingByMint:        make(map[string][]string),
		mintOf:               make(map[string]string),
	}
}

// AddProofs registers newly seen proofs from mintURL. Proofs already tracked
// (by secret) are skipped as duplicates.
func (v *Verifier) AddProofs(proofs []Proof, mintURL string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, p := range proofs {
		if _, exists := v.tracked[p.Secret]; exists {
			continue
		}
		if len(v.trackedOrder) >= v.maxProofs && v.maxProofs > 0 {
			oldest := v.trackedOrder[0]
			v.trackedOrder = v.trackedOrder[1:]
			delete(v.tracked, oldest)
			delete(v.pendingVerifications, oldest)
			if m, ok := v.mintOf[oldest]; ok {
				v.pendingByMint[m] = removeString(v.pendingByMint[m], oldest)
				delete(v.mintOf, oldest)
			}
		}
		v.tracked[p.Secret] = p
		v.trackedOrder = append(v.trackedOrder, p.Secret)
		v.pendingVerifications[p.Secret] = struct{}{}
		v.pendingByMint[mintURL] = append(v.pendingByMint[mintURL], p.Secret)
		v.mintOf[p.Secret] = mintURL
	}
}

func removeString(ss []string, s string) []string {
	out := ss[:0]
	for _, x := range ss {
		if x != s {
			out = append(out, x)
		}
	}
	return out
}

// snapshot copies the current per-mint pending secret lists so Run can
// iterate without holding the lock across network calls.
func (v *Verifier) snapshot() map[string][]string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string][]string, len(v.pendingByMint))
	for mint, secrets := range v.pendingByMint {
		if len(secrets) == 0 {
			continue
		}
		cp := make([]string, len(secrets))
		copy(cp, secrets)
		out[mint] = cp
	}
	return out
}

// Run drives passes until one makes no progress (every remaining state is
// PENDING, or every mint errored), returning any proofs found UNSPENT,
// grouped by mint.
func (v *Verifier) Run(ctx context.Context) (output map[string][]Proof) {
	v.mu.Lock()
	if v.running {
		v.mu.Unlock()
		return nil
	}
	v.running = true
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.running = false
		v.mu.Unlock()
	}()

	output = make(map[string][]Proof)
	for {
		batch := v.snapshot()
		if len(batch) == 0 {
			break
		}
		progressed := false
		for mint, secrets := range batch {
			ys := make([]string, len(secrets))
			ySecret := make(map[string]string, len(secrets))
			for i, s := range secrets {
				y, err := YPoint([]byte(s))
				if err != nil {
					continue
				}
				ys[i] = y
				ySecret[y] = s
			}
			states, err := CheckState(ctx, mint, ys)
			if err != nil {
				log.W.F("cashu: checkstate failed for mint %s: %v", mint, err)
				v.dropMint(mint, secrets)
				continue
			}
			remaining := make([]string, 0, len(secrets))
			resolved := make(map[string]bool, len(secrets))
			for _, se := range states {
				secret, ok := ySecret[se.Y]
				if !ok {
					continue
				}
				resolved[secret] = true
				switch se.State {
				case StateSpent:
					v.drop(secret)
					progressed = true
				case StateUnspent:
					v.mu.Lock()
					if p, ok := v.tracked[secret]; ok {
						output[mint] = append(output[mint], p)
					}
					v.mu.Unlock()
					v.drop(secret)
					progressed = true
				case StatePending:
					remaining = append(remaining, secret)
				default:
					log.W.F("cashu: unknown proof state %q for mint %s", se.State, mint)
					remaining = append(remaining, secret)
				}
			}
			for _, s := range secrets {
				if !resolved[s] {
					remaining = append(remaining, s)
				}
			}
			v.mu.Lock()
			if len(remaining) == 0 {
				delete(v.pendingByMint, mint)
			} else {
				v.pendingByMint[mint] = remaining
			}
			v.mu.Unlock()
		}
		if !progressed {
			break
		}
	}
	return
}

// dropMint removes every secret in secrets from the pending sets for mint,
// to prevent an immediate retry storm against a mint that just errored.
func (v *Verifier) dropMint(mint string, secrets []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, s := range secrets {
		delete(v.pendingVerifications, s)
	}
	delete(v.pendingByMint, mint)
}

// drop removes a resolved secret from the tracked/pending maps (used for
// both SPENT, which discards the proof, and UNSPENT, which has already been
// copied to the output before this call).
func (v *Verifier) drop(secret string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.tracked, secret)
	delete(v.pendingVerifications, secret)
	if m, ok := v.mintOf[secret]; ok {
		delete(v.mintOf, secret)
		v.pendingByMint[m] = removeString(v.pendingByMint[m], secret)
	}
}

// Pending reports how many secrets are still awaiting resolution, for tests
// and metrics.
func (v *Verifier) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pendingVerifications)
}
