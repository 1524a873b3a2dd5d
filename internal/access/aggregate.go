package access

// Derive computes the aggregate request status from its entries.
// Rules are evaluated in order and the first match wins.
func Derive(entries []SystemEntry) RequestStatus {
	anyHODApproved := false
	for _, e := range entries {
		if e.HOD.Status == StatusPending {
			return RequestPendingHOD
		}
		if e.HOD.Status == StatusApproved {
			anyHODApproved = true
		}
	}
	if !anyHODApproved {
		return RequestRejectedHOD
	}
	for _, e := range entries {
		if e.HOD.Status == StatusApproved && e.ICT.Status == StatusPending {
			return RequestPendingICT
		}
	}
	for _, e := range entries {
		if e.ICT.Status == StatusApproved {
			return RequestApproved
		}
	}
	return RequestRejectedICT
}

// Sync recomputes and stores the status of req. It is the only writer of the status.
func Sync(req *AccessRequest, entries []SystemEntry) RequestStatus {
	req.status = Derive(entries)
	return req.status
}

// SyncRecord is Sync applied to a whole record.
func SyncRecord(rec *Record) RequestStatus {
	return Sync(&rec.Request, rec.Entries)
}
