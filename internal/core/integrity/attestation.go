package integrity

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/qinfinity/qcored/internal/fault"
)

// The five decentralization checks. All must be compliant, together with
// the kill-first-launcher test, for an attestation to pass.
const (
	CheckNoCentralDatabase = "no_central_database"
	CheckNoMessageBrokers  = "no_message_brokers"
	CheckIPFSRequired      = "ipfs_required"
	CheckLibP2PActive      = "libp2p_active"
	CheckKillPrereqs       = "kill_first_launcher_prereqs"
)

// Check statuses.
const (
	Compliant    = "compliant"
	NonCompliant = "non_compliant"
)

// Facts describe the deployment under attestation. The DI layer fills them
// from configuration and live adapters.
type Facts struct {
	CentralDatabases []string // names of central databases in use, if any
	MessageBrokers   []string // names of message brokers in use, if any
	IPFSGateway      string   // content-addressed storage endpoint
	LibP2PPeers      int      // currently connected libp2p peers
}

// CheckResult is one decentralization check's outcome.
type CheckResult struct {
	Status   string `json:"status"`
	Details  string `json:"details"`
	Evidence string `json:"evidence,omitempty"`
}

// KillTestResult is the kill-first-launcher outcome. The test passes only
// when continuity holds while the launcher is down AND the fleet recovers
// to within twice its baseline latency.
type KillTestResult struct {
	Availability   float64 `json:"availability"`
	DataIntact     bool    `json:"data_intact"`
	PeersConnected int     `json:"peers_connected"`
	Quorum         bool    `json:"quorum_achievable"`
	ContinuityOK   bool    `json:"continuity_ok"`
	BaselineMs     float64 `json:"baseline_ms"`
	RecoveredMs    float64 `json:"recovered_ms"`
	RecoveryFactor float64 `json:"recovery_factor"`
	RecoveryOK     bool    `json:"recovery_ok"`
	Passed         bool    `json:"passed"`
}

// Attestation is the signed decentralization document.
type Attestation struct {
	ID             string                 `json:"id"`
	Timestamp      int64                  `json:"timestamp"`
	Checks         map[string]CheckResult `json:"checks"`
	KillTest       *KillTestResult        `json:"kill_first_launcher,omitempty"`
	OverallStatus  string                 `json:"overall_status"`
	ContentAddress string                 `json:"content_address,omitempty"`
	Signature      string                 `json:"signature"`
}

const (
	attestationDomain   = "attestation"
	attestationArtifact = "attestation.json"

	// minContinuity and maxRecoveryFactor bound the kill test: service
	// availability at or above 80% while the launcher is down, and a
	// recovered latency no worse than twice baseline.
	minContinuity     = 0.8
	maxRecoveryFactor = 2.0
)

// Attest runs the decentralization checks and the kill-first-launcher test,
// composes the attestation, publishes it to content-addressed storage when
// compliant and stores the artifact locally either way.
func (v *Validator) Attest(ctx context.Context) (*Attestation, error) {
	att := &Attestation{
		ID:        v.ids.New(),
		Timestamp: v.clock.NowMillis(),
		Checks:    v.runChecks(),
	}

	compliant := true
	for _, check := range att.Checks {
		if check.Status != Compliant {
			compliant = false
		}
	}

	if att.Checks[CheckKillPrereqs].Status == Compliant {
		kill, err := v.killFirstLauncher(ctx)
		if err != nil {
			return nil, err
		}
		att.KillTest = kill
		compliant = compliant && kill.Passed
	} else {
		compliant = false
	}

	att.OverallStatus = NonCompliant
	if compliant {
		att.OverallStatus = Compliant
	}
	att.Signature = v.signAttestation(att)

	if compliant {
		att.ContentAddress = v.publishAttestation(ctx, att)
	}
	v.storeAttestation(att)

	v.emit("decentralization.attestation.completed", map[string]any{
		"attestation_id": att.ID,
		"overall_status": att.OverallStatus,
		"checks":         len(att.Checks),
	})
	return att, nil
}

func (v *Validator) runChecks() map[string]CheckResult {
	checks := make(map[string]CheckResult, 5)

	checks[CheckNoCentralDatabase] = listCheck(
		v.facts.CentralDatabases, "no central database configured", "central databases in use")
	checks[CheckNoMessageBrokers] = listCheck(
		v.facts.MessageBrokers, "no message broker configured", "message brokers in use")

	if v.facts.IPFSGateway != "" {
		checks[CheckIPFSRequired] = CheckResult{
			Status:   Compliant,
			Details:  "content-addressed storage reachable",
			Evidence: v.facts.IPFSGateway,
		}
	} else {
		checks[CheckIPFSRequired] = CheckResult{
			Status:  NonCompliant,
			Details: "no content-addressed storage endpoint configured",
		}
	}

	if v.facts.LibP2PPeers > 0 {
		checks[CheckLibP2PActive] = CheckResult{
			Status:   Compliant,
			Details:  "peer-to-peer transport active",
			Evidence: fmt.Sprintf("%d connected peers", v.facts.LibP2PPeers),
		}
	} else {
		checks[CheckLibP2PActive] = CheckResult{
			Status:  NonCompliant,
			Details: "no connected libp2p peers",
		}
	}

	if v.fleet != nil {
		checks[CheckKillPrereqs] = CheckResult{
			Status:  Compliant,
			Details: "fleet control reachable, launcher designated",
		}
	} else {
		checks[CheckKillPrereqs] = CheckResult{
			Status:  NonCompliant,
			Details: "no fleet control wired",
		}
	}
	return checks
}

func listCheck(offenders []string, okDetails, badDetails string) CheckResult {
	if len(offenders) == 0 {
		return CheckResult{Status: Compliant, Details: okDetails}
	}
	return CheckResult{
		Status:   NonCompliant,
		Details:  badDetails,
		Evidence: fmt.Sprintf("%v", offenders),
	}
}

// killFirstLauncher kills the bootstrap node, measures continuity while it
// is down, restores it and measures recovery.
func (v *Validator) killFirstLauncher(ctx context.Context) (*KillTestResult, error) {
	const op = "integrity.killtest"

	baseline, err := v.fleet.Baseline(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.KindTimeout, op, "baseline probe", err)
	}
	if err := v.fleet.KillFirstLauncher(ctx); err != nil {
		return nil, fault.Wrap(fault.KindTimeout, op, "kill launcher", err)
	}

	degraded, probeErr := v.fleet.Probe(ctx)

	// The launcher comes back regardless of how the probes went.
	if err := v.fleet.RestoreLauncher(ctx); err != nil {
		return nil, fault.Wrap(fault.KindTimeout, op, "restore launcher", err)
	}
	if probeErr != nil {
		return nil, fault.Wrap(fault.KindTimeout, op, "degraded probe", probeErr)
	}
	recovered, err := v.fleet.Probe(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.KindTimeout, op, "recovery probe", err)
	}

	result := &KillTestResult{
		Availability:   degraded.Availability(),
		DataIntact:     degraded.DataIntact,
		PeersConnected: degraded.PeersConnected,
		Quorum:         degraded.QuorumAchievable,
		BaselineMs:     baseline.LatencyMs,
		RecoveredMs:    recovered.LatencyMs,
	}
	result.ContinuityOK = result.Availability >= minContinuity &&
		result.DataIntact && result.PeersConnected > 0 && result.Quorum
	if baseline.LatencyMs > 0 {
		result.RecoveryFactor = recovered.LatencyMs / baseline.LatencyMs
	}
	result.RecoveryOK = result.RecoveryFactor <= maxRecoveryFactor
	result.Passed = result.ContinuityOK && result.RecoveryOK
	return result, nil
}

// signAttestation hashes the attestation identity line: id, timestamp,
// overall status and check count.
func (v *Validator) signAttestation(att *Attestation) string {
	payload := fmt.Sprintf("%s|%d|%s|%d",
		att.ID, att.Timestamp, att.OverallStatus, len(att.Checks))
	digest := v.crypto.Hash([]byte(payload))
	return hex.EncodeToString(digest[:])
}

// publishAttestation puts the document on content-addressed storage under a
// bounded timeout. When storage is unavailable a mock address derived from
// the signature stands in so the artifact still carries a companion CID.
func (v *Validator) publishAttestation(ctx context.Context, att *Attestation) string {
	ctx, cancel := context.WithTimeout(ctx, v.opts.PublishTimeout)
	defer cancel()

	data, err := attestationJSON(att)
	if err == nil {
		address, putErr := v.storage.Put(ctx, data, attestationArtifact, "attestations")
		if putErr == nil {
			return address
		}
		err = putErr
	}
	if v.logger != nil {
		v.logger.Printf("integrity: attestation publication failed, using mock cid: %v", err)
	}
	return "mock-cid-" + att.Signature[:16]
}

func attestationJSON(att *Attestation) ([]byte, error) {
	return json.MarshalIndent(att, "", "  ")
}

func (v *Validator) storeAttestation(att *Attestation) {
	if v.art == nil {
		return
	}
	if _, err := v.art.SaveJSON(attestationDomain, attestationArtifact, att); err != nil {
		if v.logger != nil {
			v.logger.Printf("integrity: store attestation: %v", err)
		}
		return
	}
	if att.ContentAddress != "" {
		if _, err := v.art.SaveRaw(attestationDomain, attestationArtifact+".cid",
			[]byte(att.ContentAddress)); err != nil && v.logger != nil {
			v.logger.Printf("integrity: store attestation cid: %v", err)
		}
	}
}
