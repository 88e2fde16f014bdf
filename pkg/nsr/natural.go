package nsr

// NaturalLess orders strings so that embedded numbers compare by value:
// "2" < "10" and "N9" < "N12". Ties fall back to byte order.
func NaturalLess(a, b string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		if isDigit(ca) && isDigit(cb) {
			si := i
			for i < len(a) && a[i] == '0' {
				i++
			}
			sj := j
			for j < len(b) && b[j] == '0' {
				j++
			}
			ei, ej := i, j
			for ei < len(a) && isDigit(a[ei]) {
				ei++
			}
			for ej < len(b) && isDigit(b[ej]) {
				ej++
			}
			na, nb := a[i:ei], b[j:ej]
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			// equal value; more leading zeros sorts first
			if ei-si != ej-sj {
				return ei-si > ej-sj
			}
			i, j = ei, ej
			continue
		}
		if ca != cb {
			return ca < cb
		}
		i++
		j++
	}
	if len(a)-i != len(b)-j {
		return len(a)-i < len(b)-j
	}
	return a < b
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
