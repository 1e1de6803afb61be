package analysis

// c3Merge computes the C3 linearization of a class from its parents'
// linearizations and the direct-parent list. Returns false when no
// consistent order exists.
func c3Merge(self string, parents [][]string, direct []string) ([]string, bool) {
	seqs := make([][]string, 0, len(parents)+1)
	for _, p := range parents {
		if len(p) > 0 {
			seqs = append(seqs, append([]string(nil), p...))
		}
	}
	if len(direct) > 0 {
		seqs = append(seqs, append([]string(nil), direct...))
	}

	out := []string{self}
	for len(seqs) > 0 {
		// Find a head that appears in no other sequence's tail.
		var head string
		for _, seq := range seqs {
			candidate := seq[0]
			inTail := false
			for _, other := range seqs {
				for _, t := range other[1:] {
					if t == candidate {
						inTail = true
						break
					}
				}
				if inTail {
					break
				}
			}
			if !inTail {
				head = candidate
				break
			}
		}
		if head == "" {
			return nil, false
		}

		out = append(out, head)
		next := seqs[:0]
		for _, seq := range seqs {
			if seq[0] == head {
				seq = seq[1:]
			}
			if len(seq) > 0 {
				next = append(next, seq)
			}
		}
		seqs = next
	}
	return out, true
}
