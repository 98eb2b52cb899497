//go:build unix

package network

import "golang.org/x/sys/unix"

func setMediaSockopts(fd uintptr, network string) error {
	if network == "udp6" {
		return unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, mediaTOS)
	}
	return unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, mediaTOS)
}
