package stimuli

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/experiment"
)

const DefaultMaxBlockSize = 12

// MinBlockDistance is how many blocks apart the two trials of an item must
// land.
const MinBlockDistance = 2

var ErrUnassignable = errors.New("cannot assign item to a block")

// AssignBlocks distributes the two trials of every item over blocks of at
// most maxSize trials. Each trial goes to one of the emptiest blocks that
// still has room, preferring blocks with the fewest trials of the same
// condition; the second trial of an item must land MinBlockDistance blocks
// away from the first. Blocks are numbered from 1 and every row gets a
// block and a block+condition label.
func AssignBlocks(rows []experiment.Row, maxSize int, rng *rand.Rand) ([]experiment.Row, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("assign blocks: max block size %d", maxSize)
	}
	byItem := map[string][]experiment.Row{}
	var items []string
	for _, row := range rows {
		if _, ok := byItem[row.ItemID]; !ok {
			items = append(items, row.ItemID)
		}
		byItem[row.ItemID] = append(byItem[row.ItemID], row)
	}
	for _, item := range items {
		if n := len(byItem[item]); n != 2 {
			return nil, fmt.Errorf("%w: item %s has %d trials, want 2", ErrUnassignable, item, n)
		}
	}

	var lastErr error
	for attempt := 0; attempt < assignAttempts; attempt++ {
		blocks, err := assignOnce(items, byItem, (len(rows)+maxSize-1)/maxSize, maxSize, rng)
		if err != nil {
			lastErr = err
			continue
		}
		out := make([]experiment.Row, 0, len(rows))
		for i, block := range blocks {
			for _, row := range block {
				row.Block = strconv.Itoa(i + 1)
				row.Label = row.Block + row.Condition
				out = append(out, row)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("assign blocks after %d attempts: %w", assignAttempts, lastErr)
}

// Each attempt starts over with a new item order.
const assignAttempts = 100

func assignOnce(items []string, byItem map[string][]experiment.Row, n, maxSize int, rng *rand.Rand) ([][]experiment.Row, error) {
	blocks := make([][]experiment.Row, n)
	for _, item := range experiment.Permute(items, rng) {
		pair := experiment.Permute(byItem[item], rng)

		first, err := pick(blocks, maxSize, pair[0].Condition, -1, rng)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", item, err)
		}
		blocks[first] = append(blocks[first], pair[0])

		second, err := pick(blocks, maxSize, pair[1].Condition, first, rng)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", item, err)
		}
		blocks[second] = append(blocks[second], pair[1])
	}
	return blocks, nil
}

func pick(blocks [][]experiment.Row, maxSize int, condition string, awayFrom int, rng *rand.Rand) (int, error) {
	var candidates []int
	for i, block := range blocks {
		if len(block) >= maxSize {
			continue
		}
		if awayFrom >= 0 && abs(i-awayFrom) < MinBlockDistance {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return 0, ErrUnassignable
	}

	candidates = keepMin(candidates, func(i int) int { return len(blocks[i]) })
	candidates = keepMin(candidates, func(i int) int {
		n := 0
		for _, row := range blocks[i] {
			if row.Condition == condition {
				n++
			}
		}
		return n
	})
	return candidates[rng.IntN(len(candidates))], nil
}

func keepMin(candidates []int, score func(int) int) []int {
	best := score(candidates[0])
	for _, c := range candidates[1:] {
		best = min(best, score(c))
	}
	return slices.DeleteFunc(slices.Clone(candidates), func(c int) bool { return score(c) != best })
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// CheckBlocks reports blocks that repeat an item or lack one of the
// required anaphor types.
func CheckBlocks(rows []experiment.Row, anaphorTypes ...string) []string {
	type blockInfo struct {
		items map[string]bool
		types map[string]bool
	}
	var order []string
	blocks := map[string]*blockInfo{}
	var problems []string
	for _, row := range rows {
		info, ok := blocks[row.Block]
		if !ok {
			info = &blockInfo{items: map[string]bool{}, types: map[string]bool{}}
			blocks[row.Block] = info
			order = append(order, row.Block)
		}
		if info.items[row.ItemID] {
			problems = append(problems, fmt.Sprintf("block %s: item %s repeated", row.Block, row.ItemID))
		}
		info.items[row.ItemID] = true
		info.types[row.AnaphorType] = true
	}
	for _, block := range order {
		for _, typ := range anaphorTypes {
			if !blocks[block].types[typ] {
				problems = append(problems, fmt.Sprintf("block %s: no %s trial", block, typ))
			}
		}
	}
	return problems
}
