// Package container tests, Ginkgo/Gomega style, mirroring aistore's
// cmn/cos/cos_suite_test.go / hk/housekeeper_suite_test.go pattern.
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package container_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestContainer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "container suite")
}
