package proxyprotocol_test

import (
	"fmt"
	"io/ioutil"
	"net"

	proxyproto "github.com/pires/go-proxyproto"
	"github.com/websecurify/proxify/proxyprotocol"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/onsi/ginkgo/extensions/table"
)

var _ = Describe("type Conn", func() {
	table.DescribeTable(
		"accepts PROXY connections",
		func(version byte) {
			server, client := net.Pipe()

			go func() {
				defer GinkgoRecover()

				header := &proxyproto.Header{
					Command:            proxyproto.PROXY,
					DestinationAddress: net.ParseIP("127.0.0.1"),
					DestinationPort:    12345,
					SourceAddress:      net.ParseIP("127.127.127.127"),
					SourcePort:         31337,
					TransportProtocol:  proxyproto.TCPv4,
					Version:            version,
				}
				n, err := header.WriteTo(client)
				Expect(n).To(BeNumerically(">", 0))
				Expect(err).NotTo(HaveOccurred())

				fmt.Fprint(client, "<data>")
				Expect(client.Close()).To(Succeed())
			}()

			conn := proxyprotocol.NewConn(server)
			defer conn.Close()

			Expect(conn.RemoteAddr().String()).To(Equal("127.127.127.127:31337"))
			Expect(conn.LocalAddr().String()).To(Equal("127.0.0.1:12345"))
			Expect(conn.Header()).NotTo(BeNil())

			data, err := ioutil.ReadAll(conn)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("<data>"))
		},
		table.Entry("v1", byte(1)),
		table.Entry("v2", byte(2)),
	)

	table.DescribeTable(
		"passes non-PROXY connections through",
		func(payload string) {
			server, client := net.Pipe()

			go func() {
				defer GinkgoRecover()

				fmt.Fprint(client, payload)
				Expect(client.Close()).To(Succeed())
			}()

			conn := proxyprotocol.NewConn(server)
			defer conn.Close()

			Expect(conn.RemoteAddr().String()).To(Equal("pipe"))
			Expect(conn.LocalAddr().String()).To(Equal("pipe"))
			Expect(conn.Header()).To(BeNil())

			data, err := ioutil.ReadAll(conn)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal(payload))
		},
		table.Entry("plain text", "test\n"),
		table.Entry("HTTP request starting with P", "POST / HTTP/1.1\r\n\r\n"),
		table.Entry("CONNECT request", "CONNECT example.com:443 HTTP/1.1\r\n\r\n"),
	)
})

var _ = Describe("type Listener", func() {
	It("reports the client address from the PROXY header", func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())

		listener := proxyprotocol.NewListener(ln, nil)
		defer listener.Close()

		go func() {
			defer GinkgoRecover()

			client, err := net.Dial("tcp", ln.Addr().String())
			Expect(err).NotTo(HaveOccurred())
			defer client.Close()

			_, err = fmt.Fprint(client, "PROXY TCP4 192.0.2.1 192.0.2.2 1234 443\r\n<data>")
			Expect(err).NotTo(HaveOccurred())
		}()

		conn, err := listener.Accept()
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		Expect(conn.RemoteAddr().String()).To(Equal("192.0.2.1:1234"))

		data, err := ioutil.ReadAll(conn)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("<data>"))
	})
})
