package containers

import "coopsim.io/internal/sim/host"

// Adjustment is one add (Count > 0) or remove (Count < 0) call needed to move
// a container from one delta to another. Extra is nil for plain items.
type Adjustment struct {
	Item  host.FormID
	Count int
	Extra *host.ExtraData
}

type extraKey struct {
	worn, wornLeft bool
	health, charge float32
}

func keyOf(x host.ExtraData) extraKey {
	return extraKey{worn: x.Worn, wornLeft: x.WornLeft, health: x.Health, charge: x.Charge}
}

// Plan lists the adjustments that turn delta from into delta to. Items are
// visited in the order of to, then the items only present in from. Within an
// item, instance-data sub-stacks come first, then the plain remainder.
func Plan(from, to Delta) []Adjustment {
	var out []Adjustment
	visited := map[host.FormID]struct{}{}
	visit := func(item host.FormID) {
		if _, ok := visited[item]; ok {
			return
		}
		visited[item] = struct{}{}
		f, _ := from.Find(item)
		t, _ := to.Find(item)
		out = append(out, planItem(item, f, t)...)
	}
	for _, e := range to {
		visit(e.Item)
	}
	for _, e := range from {
		visit(e.Item)
	}
	return out
}

func planItem(item host.FormID, from, to Entry) []Adjustment {
	var out []Adjustment
	counts := map[extraKey]int{}
	var order []extraKey
	add := func(x host.ExtraData, sign int) {
		k := keyOf(x)
		if _, ok := counts[k]; !ok {
			order = append(order, k)
		}
		counts[k] += sign * x.Count
	}
	plain := plainCount(to) - plainCount(from)
	for _, x := range to.Extra {
		add(x, 1)
	}
	for _, x := range from.Extra {
		add(x, -1)
	}
	for _, k := range order {
		n := counts[k]
		if n == 0 {
			continue
		}
		out = append(out, Adjustment{Item: item, Count: n, Extra: &host.ExtraData{
			Worn: k.worn, WornLeft: k.wornLeft, Health: k.health, Charge: k.charge,
		}})
	}
	if plain != 0 {
		out = append(out, Adjustment{Item: item, Count: plain})
	}
	return out
}

func plainCount(e Entry) int {
	n := e.Count
	for _, x := range e.Extra {
		n -= x.Count
	}
	return n
}
