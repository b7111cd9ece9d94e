package session

import "github.com/xcp-tools/xcpslave/pkg/xcperr"

// Page-selector mode bits carried by SET_CAL_PAGE/GET_CAL_PAGE, per
// §4.J: which of the tool's or the ECU's page pointer a call targets.
const (
	PageModeEcu  uint8 = 1 << 0
	PageModeTool uint8 = 1 << 1
	PageModeAll  uint8 = 1 << 2 // SET_CAL_PAGE: apply to every segment
)

// SetCalPage implements component J's write side: moving a segment's
// tool and/or ECU page pointer, applied to every configured segment
// when PageModeAll is set. Delegated to App so the address
// translation the page switch implies can be validated against real
// memory layout.
func (s *Session) SetCalPage(segment uint8, page uint8, mode uint8) error {
	if mode&PageModeAll != 0 {
		for i := range s.Segments {
			if err := s.setOneCalPage(uint8(i), page, mode); err != nil {
				return err
			}
		}
		return nil
	}
	return s.setOneCalPage(segment, page, mode)
}

func (s *Session) setOneCalPage(segment uint8, page uint8, mode uint8) error {
	if int(segment) >= len(s.Segments) {
		return xcperr.ErrSegmentNotValid
	}
	seg := &s.Segments[segment]
	if page >= seg.Cfg.PageCount {
		return xcperr.ErrPageNotValid
	}
	status, err := s.App.SetCalPage(segment, page, mode)
	if err != nil {
		return err
	}
	if status != Finished {
		return statusToErr(status)
	}
	if mode&PageModeEcu != 0 {
		seg.EcuPage = page
	}
	if mode&PageModeTool != 0 {
		seg.ToolPage = page
	}
	return nil
}

// GetCalPage reads back the tool's or the ECU's current page for one
// segment, straight from session state rather than the application —
// the session is the authority on what was last selected.
func (s *Session) GetCalPage(segment uint8, mode uint8) (uint8, error) {
	if int(segment) >= len(s.Segments) {
		return 0, xcperr.ErrSegmentNotValid
	}
	seg := s.Segments[segment]
	if mode&PageModeEcu != 0 {
		return seg.EcuPage, nil
	}
	return seg.ToolPage, nil
}

// CopyCalPage implements COPY_CAL_PAGE, copying one segment/page's
// calibration data onto another (also used to seed a freshly added
// page). Left entirely to App since only it knows the underlying
// memory shape.
func (s *Session) CopyCalPage(srcSeg, srcPage, dstSeg, dstPage uint8) error {
	if int(srcSeg) >= len(s.Segments) || int(dstSeg) >= len(s.Segments) {
		return xcperr.ErrSegmentNotValid
	}
	if srcPage >= s.Segments[srcSeg].Cfg.PageCount || dstPage >= s.Segments[dstSeg].Cfg.PageCount {
		return xcperr.ErrPageNotValid
	}
	status, err := s.App.CopyCalPage(srcSeg, srcPage, dstSeg, dstPage)
	if err != nil {
		return err
	}
	return statusToErr(status)
}

// StatusToErr maps an App.Status other than Finished to the wire
// error code a handler should report. Finished maps to nil.
func StatusToErr(status Status) error { return statusToErr(status) }

// statusToErr maps an App.Status other than Finished to the wire
// error code a handler should report.
func statusToErr(status Status) error {
	switch status {
	case Finished:
		return nil
	case Busy:
		return xcperr.ErrCmdBusy
	case OutOfRam:
		return xcperr.ErrMemoryOverflow
	case BadAddress:
		return xcperr.ErrOutOfRange
	case PageNotValid:
		return xcperr.ErrPageNotValid
	case SegNotValid:
		return xcperr.ErrSegmentNotValid
	case RequestNotValid, Rejected:
		return xcperr.ErrAccessDenied
	default:
		return xcperr.ErrGeneric
	}
}
