/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apierrors_test

import (
	"errors"
	"fmt"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/clustercast/simcore/pkg/apierrors"
)

func TestAPIErrors(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "APIErrors")
}

var _ = Describe("KindOf", func() {
	It("recovers the Kind through errors.As", func() {
		err := apierrors.New(apierrors.NotFound, "unknown snapshot id %q", "x")
		Expect(apierrors.KindOf(err)).To(Equal(apierrors.NotFound))
	})

	It("recovers the Kind through a wrapped error chain", func() {
		err := fmt.Errorf("refreshing prices: %w", apierrors.New(apierrors.ExternalTransient, "oracle down"))
		Expect(apierrors.KindOf(err)).To(Equal(apierrors.ExternalTransient))
	})

	It("defaults untagged errors to Validation", func() {
		Expect(apierrors.KindOf(errors.New("plain"))).To(Equal(apierrors.Validation))
	})
})

var _ = Describe("Wrap", func() {
	It("returns nil for a nil error", func() {
		Expect(apierrors.Wrap(apierrors.Fatal, nil)).To(BeNil())
	})

	It("preserves the underlying cause via Unwrap", func() {
		cause := errors.New("boom")
		err := apierrors.Wrap(apierrors.Fatal, cause)
		Expect(errors.Is(err, cause)).To(BeTrue())
	})
})
