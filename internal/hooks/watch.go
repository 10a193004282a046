//go:build linux

package hooks

import (
	"fmt"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/npfd/internal/ifops"
)

func (l *Layer) startWatchLocked() error {
	updates := make(chan netlink.LinkUpdate, 16)
	done := make(chan struct{})
	if err := l.subscribe(updates, done); err != nil {
		close(done)
		return fmt.Errorf("failed to subscribe to link updates: %w", err)
	}
	l.watchDone = done
	l.watchWG.Add(1)
	go l.watch(updates, done)
	l.logger.Debug("link watcher started")
	return nil
}

func (l *Layer) stopWatchLocked() {
	if l.watchDone == nil {
		return
	}
	close(l.watchDone)
	l.watchWG.Wait()
	l.watchDone = nil
	l.logger.Debug("link watcher stopped")
}

func (l *Layer) watch(updates <-chan netlink.LinkUpdate, done <-chan struct{}) {
	defer l.watchWG.Done()
	for {
		select {
		case <-done:
			return
		case u, ok := <-updates:
			if !ok {
				l.logger.Warn("link update stream closed")
				return
			}
			l.handle(u)
		}
	}
}

func (l *Layer) handle(u netlink.LinkUpdate) {
	if u.Link == nil {
		return
	}
	attrs := u.Link.Attrs()
	iface := ifops.Interface{Index: attrs.Index, Name: attrs.Name}

	var target LinkTarget
	if l.target != nil {
		target = l.target()
	}

	switch u.Header.Type {
	case unix.RTM_NEWLINK:
		if target != nil {
			target.Attach(iface)
		}
	case unix.RTM_DELLINK:
		if target != nil {
			target.Detach(iface)
		}
		if l.forget != nil {
			l.forget(iface.Index)
		}
		l.logger.Debug("interface departed", "iface", iface)
	}
}
