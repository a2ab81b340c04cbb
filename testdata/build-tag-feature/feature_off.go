//go:build !paranoia_feature

package main

const featureEnabled = false
