package coordinator

import "strings"

// PreparerEntry mirrors one "src&dst" entry of a PREPARER payload (spec.md §4.4).
type PreparerEntry struct {
	TransferIDs     []string `json:"transfer_ids"`
	Priority        int64    `json:"priority"`
	NBytesTotal     int64    `json:"n_bytes_total"`
	NTransfersTotal int64    `json:"n_transfers_total"`
}

// PreparerPayload: rule_id -> "src&dst" -> entry.
type PreparerPayload map[string]map[string]PreparerEntry

// SubmitterEntry mirrors one "src&dst" entry of a SUBMITTER payload.
type SubmitterEntry struct {
	Priority            int64 `json:"priority"`
	NTransfersSubmitted int64 `json:"n_transfers_submitted"`
}

type SubmitterPayload map[string]map[string]SubmitterEntry

// SubmitterReply: rule_id -> "src&dst" -> rse_name -> ipv6.
type SubmitterReply map[string]map[string]map[string]string

// FinisherEntry mirrors one "src&dst" entry of a FINISHER payload.
type FinisherEntry struct {
	NTransfersFinished int64 `json:"n_transfers_finished"`
	NBytesTransferred  int64 `json:"n_bytes_transferred"`
}

type FinisherPayload map[string]map[string]FinisherEntry

// splitPair parses a "src&dst" rse-pair key.
func splitPair(pair string) (src, dst string, ok bool) {
	parts := strings.SplitN(pair, "&", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// requestID derives spec.md §3's request_id = rule_id + "_" + src + "_" + dst.
func requestID(ruleID, src, dst string) string {
	return ruleID + "_" + src + "_" + dst
}
