package optimizer

// greedy starts from the cheapest leaf and repeatedly joins the connected
// leaf yielding the cheapest plan.
func (b *builder) greedy() (*plan, error) {
	leaves := b.leaves()
	if len(leaves) == 0 {
		return nil, crossProduct(1, 0)
	}
	used := make([]bool, len(leaves))
	start := 0
	for i, l := range leaves {
		if l.cost < leaves[start].cost {
			start = i
		}
	}
	used[start] = true
	cur := leaves[start]

	for step := 1; step < len(leaves); step++ {
		var best *plan
		bestLeaf := -1
		for i, l := range leaves {
			if used[i] {
				continue
			}
			for _, cand := range b.joins(cur, l) {
				if best == nil || cand.cost < best.cost {
					best, bestLeaf = cand, i
				}
			}
		}
		if best == nil {
			return nil, crossProduct(step+1, len(leaves))
		}
		used[bestLeaf] = true
		cur = best
	}
	return cur, nil
}
