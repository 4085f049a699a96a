// Package fetcher composes the concrete fetchers into the retrying,
// headless-promoting Fetcher used by the watcher.
package fetcher
