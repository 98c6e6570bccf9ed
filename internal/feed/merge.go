package feed

import (
	"sort"

	"github.com/RahmatullahZadran/appss/internal/models"
)

// ascending returns a copy of batch ordered oldest first. Backends deliver
// newest first, so the common case is a plain reversal; anything else gets
// sorted. Only the batch is sorted, never the local list.
func ascending(batch []models.Message) []models.Message {
	out := make([]models.Message, len(batch))
	for i := range batch {
		out[len(batch)-1-i] = batch[i]
	}
	if sort.SliceIsSorted(out, func(i, j int) bool { return models.OlderThan(out[i], out[j]) }) {
		return out
	}
	copy(out, batch)
	sort.SliceStable(out, func(i, j int) bool { return models.OlderThan(out[i], out[j]) })
	return out
}

// unseen drops messages whose id is already in index, including repeats
// within the batch itself.
func unseen(index map[string]struct{}, batch []models.Message) []models.Message {
	out := make([]models.Message, 0, len(batch))
	seen := make(map[string]struct{}, len(batch))
	for _, m := range batch {
		if _, ok := index[m.ID]; ok {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// merge folds an ascending batch into list and returns the new list together
// with the messages that were actually added. list is never modified in place
// so readers holding the previous slice keep a consistent view.
//
// Messages older than the head are prepended (pagination), messages not older
// than the tail are appended (live updates). A message landing strictly inside
// the loaded range, which happens when a write becomes visible late, is
// inserted at its ordered position.
func merge(list []models.Message, index map[string]struct{}, batch []models.Message) ([]models.Message, []models.Message) {
	fresh := unseen(index, batch)
	if len(fresh) == 0 {
		return list, nil
	}
	for _, m := range fresh {
		index[m.ID] = struct{}{}
	}
	if len(list) == 0 {
		out := make([]models.Message, len(fresh))
		copy(out, fresh)
		return out, fresh
	}

	head := list[0]
	tail := list[len(list)-1]

	older := 0
	for older < len(fresh) && models.OlderThan(fresh[older], head) {
		older++
	}
	newer := len(fresh)
	for newer > older && !models.OlderThan(fresh[newer-1], tail) {
		newer--
	}

	out := make([]models.Message, 0, len(list)+len(fresh))
	out = append(out, fresh[:older]...)
	out = append(out, list...)
	for _, m := range fresh[older:newer] {
		out = insertOrdered(out, older, m)
	}
	out = append(out, fresh[newer:]...)
	return out, fresh
}

// insertOrdered places m into the ascending slice s, searching from lo.
func insertOrdered(s []models.Message, lo int, m models.Message) []models.Message {
	i := lo + sort.Search(len(s)-lo, func(i int) bool { return models.OlderThan(m, s[lo+i]) })
	s = append(s, models.Message{})
	copy(s[i+1:], s[i:])
	s[i] = m
	return s
}
