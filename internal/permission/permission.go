// Package permission gates the memory updates an agent proposes.
package permission

import (
	"fmt"

	"github.com/metalagman/steward/internal/model"
	"github.com/metalagman/steward/internal/pathsec"
)

// Rejection pairs a dropped update with the reason it was dropped.
type Rejection struct {
	Update model.MemoryUpdate `json:"update"`
	Reason string             `json:"reason"`
}

// Result splits proposed updates into approved and rejected ones.
type Result struct {
	Approved []model.MemoryUpdate `json:"approved"`
	Rejected []Rejection          `json:"rejected"`
}

// Validate checks every memory update of out against perms.CanWrite.
//
// Flag operations always pass since they target the review queue rather than
// the agent's write surface. Write scope is matched without the sensitive-file
// layer. Paths that escape the base directory and unknown operations are
// rejected.
func Validate(out model.AgentOutput, perms model.PermissionEnvelope) Result {
	res := Result{
		Approved: []model.MemoryUpdate{},
		Rejected: []Rejection{},
	}
	for _, upd := range out.MemoryUpdates {
		switch upd.Operation {
		case model.MemoryOpFlag:
			res.Approved = append(res.Approved, upd)
			continue
		case model.MemoryOpAppend, model.MemoryOpUpdate:
		default:
			res.Rejected = append(res.Rejected, Rejection{
				Update: upd,
				Reason: fmt.Sprintf("Permission denied: %s used unknown operation %q on %s", out.Agent, upd.Operation, upd.File),
			})
			continue
		}

		rel, ok := pathsec.Normalize(upd.File, "")
		if ok && rel != "" && pathsec.MatchAny(perms.CanWrite, rel) {
			res.Approved = append(res.Approved, upd)
			continue
		}
		res.Rejected = append(res.Rejected, Rejection{
			Update: upd,
			Reason: fmt.Sprintf("Permission denied: %s cannot %s %s", out.Agent, upd.Operation, upd.File),
		})
	}
	return res
}
