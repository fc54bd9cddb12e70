//go:build linux

package platform

// defaultSourceKind reads /proc/stat directly on Linux and Android.
func defaultSourceKind() SourceKind {
	return SourceProcfs
}

func defaultListerKind() SourceKind {
	return SourceProcfs
}
