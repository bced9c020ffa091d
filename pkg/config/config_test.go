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

package config_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/pflag"

	"github.com/clustercast/simcore/pkg/config"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config")
}

var _ = Describe("Options", func() {
	It("parses with defaults when no flags are given", func() {
		o := &config.Options{}
		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		o.AddFlags(fs)
		Expect(fs.Parse(nil)).To(Succeed())
		Expect(o.Addr).To(Equal(":8080"))
		Expect(o.SnapshotsDir).To(Equal("./snapshots"))
		Expect(o.LogLevel).To(Equal("info"))
		Expect(o.Validate()).To(Succeed())
	})

	It("rejects an unknown log level", func() {
		o := &config.Options{}
		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		o.AddFlags(fs)
		Expect(fs.Parse([]string{"--log-level=verbose"})).To(Succeed())
		Expect(o.Validate()).To(HaveOccurred())
	})

	It("rejects a negative refresh interval", func() {
		o := &config.Options{}
		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		o.AddFlags(fs)
		Expect(fs.Parse([]string{"--price-refresh-seconds=-1"})).To(Succeed())
		Expect(o.Validate()).To(HaveOccurred())
	})

	It("honors explicit flags over defaults", func() {
		o := &config.Options{}
		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		o.AddFlags(fs)
		Expect(fs.Parse([]string{"--addr=:9999", "--price-region=us-west-2"})).To(Succeed())
		Expect(o.Addr).To(Equal(":9999"))
		Expect(o.PriceRegion).To(Equal("us-west-2"))
	})
})
