//go:build !linux && !darwin

package platform

// defaultSourceKind falls back to gopsutil where no direct reader exists.
func defaultSourceKind() SourceKind {
	return SourceGopsutil
}

func defaultListerKind() SourceKind {
	return SourceGopsutil
}
