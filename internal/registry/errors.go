package registry

// CacheError reports a failure reading or writing a cache entry or its
// metadata sidecar. It's always a local filesystem problem (permissions,
// disk full, corrupt JSON) — network failures belong to the underlying
// internal/metadata.Client and surface as cellarerr.DownloadFailed there,
// not here.
type CacheError struct {
	Op  string // "read", "write", "list", "clear"
	Key string // the cache key involved, if any
	Err error
}

func (e *CacheError) Error() string {
	if e.Key != "" {
		return "registry cache " + e.Op + " " + e.Key + ": " + e.Err.Error()
	}
	return "registry cache " + e.Op + ": " + e.Err.Error()
}

func (e *CacheError) Unwrap() error {
	return e.Err
}
