package main

import "errors"

var errRefRequired = errors.New("one of --ref or --at is required")
