// Package spatial holds the spatial data layer: the admin hierarchy, the
// age-stratified population tensor, historical case/death series, the
// aggregator that rolls them up the hierarchy, and the inter-node mobility
// operator.
package spatial

import (
	"fmt"

	"github.com/lshin-apl/bucky/domain/core"
	"github.com/lshin-apl/bucky/internal/tensor"
)

// Hierarchy fixes the three administrative levels: nodes (finest simulation
// unit), mid-level groups, and a single coarse root. The node-to-group map
// is surjective onto the ids that occur and immutable after construction.
// Group index space is dense over 0..max(group id), so groups without
// members exist and reduce to exact zero.
type Hierarchy struct {
	nodeID  []int
	groupOf []int
	nGroups int
}

// NewHierarchy builds the hierarchy from per-node external ids and mid-level
// group ids. Construction is fatal on length mismatch or negative group ids.
func NewHierarchy(nodeIDs, groupIDs []int) (*Hierarchy, error) {
	if len(nodeIDs) == 0 {
		return nil, core.ErrEmptyGraph
	}
	if len(groupIDs) != len(nodeIDs) {
		return nil, fmt.Errorf("%w: %d node ids vs %d group ids", core.ErrShapeMismatch, len(nodeIDs), len(groupIDs))
	}
	maxGroup := 0
	for _, g := range groupIDs {
		if g < 0 {
			return nil, fmt.Errorf("%w: negative group id %d", core.ErrMalformedInput, g)
		}
		if g > maxGroup {
			maxGroup = g
		}
	}
	h := &Hierarchy{
		nodeID:  append([]int(nil), nodeIDs...),
		groupOf: append([]int(nil), groupIDs...),
		nGroups: maxGroup + 1,
	}
	return h, nil
}

// Nodes returns the number of finest-level nodes.
func (h *Hierarchy) Nodes() int { return len(h.groupOf) }

// Groups returns the size of the mid-level index space.
func (h *Hierarchy) Groups() int { return h.nGroups }

// NodeID returns the external id of node j.
func (h *Hierarchy) NodeID(j int) int { return h.nodeID[j] }

// GroupOf returns the mid-level group index of node j.
func (h *Hierarchy) GroupOf(j int) int { return h.groupOf[j] }

// GroupSum scatter-adds a node-indexed array into group index space. Total
// mass is conserved for any numeric input.
func (h *Hierarchy) GroupSum(nodeVals []float64) []float64 {
	return tensor.GroupSum(nodeVals, h.groupOf, h.nGroups)
}

// GroupSumSeries rolls every day of a node-indexed series up to group level.
func (h *Hierarchy) GroupSumSeries(s *tensor.Series) *tensor.Series {
	return tensor.GroupSumSeries(s, h.groupOf, h.nGroups)
}
