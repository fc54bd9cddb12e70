//go:build darwin

package platform

// defaultSourceKind uses the Mach host statistics API on macOS.
func defaultSourceKind() SourceKind {
	return SourceNative
}

func defaultListerKind() SourceKind {
	return SourceGopsutil
}
