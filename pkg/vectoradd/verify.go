package vectoradd

// Verify scans c for the first index where c[i] != a[i]+b[i]. It returns
// that index and false, or -1 and true when every element matches.
// Addition wraps like the device's 32-bit int.
func Verify(a, b, c []int32) (int, bool) {
	n := min(len(a), len(b), len(c))
	for i := 0; i < n; i++ {
		if c[i] != a[i]+b[i] {
			return i, false
		}
	}
	return -1, true
}
