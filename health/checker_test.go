package health_test

import (
	"net"

	"github.com/websecurify/proxify/health"
	"github.com/websecurify/proxify/proxy"
	"github.com/websecurify/proxify/proxyprotocol"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("type ProxyChecker", func() {
	var (
		ln      net.Listener
		subject *proxy.Proxy
	)

	BeforeEach(func() {
		var err error
		ln, err = net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())

		subject = proxy.NewProxy(nil, nil)
	})

	AfterEach(func() {
		subject.Close()
		ln.Close()
	})

	It("reports a healthy proxy", func() {
		go subject.Serve(ln) // nolint:errcheck

		checker := &health.ProxyChecker{Address: ln.Addr().String()}
		status := checker.Check()
		Expect(status.IsHealthy).To(BeTrue(), status.Message)
	})

	It("reports a healthy transparent proxy", func() {
		subject.Transparent = true
		go subject.Serve(ln) // nolint:errcheck

		checker := &health.ProxyChecker{Address: ln.Addr().String()}
		status := checker.Check()
		Expect(status.IsHealthy).To(BeTrue(), status.Message)
	})

	It("sends a PROXY header when enabled", func() {
		go subject.Serve(proxyprotocol.NewListener(ln, nil)) // nolint:errcheck

		checker := &health.ProxyChecker{
			Address:       ln.Addr().String(),
			ProxyProtocol: true,
		}
		status := checker.Check()
		Expect(status.IsHealthy).To(BeTrue(), status.Message)
	})

	It("reports a proxy that is not listening", func() {
		addr := ln.Addr().String()
		ln.Close()

		checker := &health.ProxyChecker{Address: addr}
		status := checker.Check()
		Expect(status.IsHealthy).To(BeFalse())
		Expect(status.Message).To(ContainSubstring(addr))
	})
})
