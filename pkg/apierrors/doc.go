// Package apierrors maps failures to a closed taxonomy of error kinds and
// renders the client-facing error envelope.
//
// Classification is table driven: typed errors first, then explicit HTTP
// statuses, then typed transport/storage variants, and finally a bounded
// keyword fallback whose unmatched cases are logged for taxonomy refinement.
//
// Example:
//
//	if err := svc.Do(ctx); err != nil {
//	    apierrors.WriteError(w, r, err)
//	    return
//	}
package apierrors
