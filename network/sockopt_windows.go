//go:build windows

package network

import "golang.org/x/sys/windows"

func setMediaSockopts(fd uintptr, network string) error {
	if network == "udp6" {
		return nil
	}
	return windows.SetsockoptInt(windows.Handle(fd), windows.IPPROTO_IP, windows.IP_TOS, mediaTOS)
}
