//go:build !linux

package search

import "os"

func dropPageCache(*os.File) {}
