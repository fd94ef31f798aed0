package items

import (
	"context"
	"sort"
)

// TOTPCreationDateThreshold returns the creation time of the numberOfTOTP-th
// oldest log-in item carrying a TOTP secret, or nil when fewer such items
// exist. Trashed logins still count: the cutoff tracks how many 2FA items
// the user has created, not how many are currently active. Callers use it as
// the cutoff date for 2FA plan limits.
func (r *repository) TOTPCreationDateThreshold(ctx context.Context, userID string, numberOfTOTP int) (*int64, error) {
	all, err := r.local.GetAllItems(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	symKey, err := r.symProvider.SymmetricKey(ctx)
	if err != nil {
		return nil, err
	}

	var createTimes []int64
	for i := range all {
		if !all[i].IsLogInItem {
			continue
		}
		content, err := all[i].Content(symKey)
		if err != nil {
			return nil, err
		}
		if content.Login != nil && content.Login.TOTPURI != "" {
			createTimes = append(createTimes, all[i].Item.CreateTime)
		}
	}
	if len(createTimes) < numberOfTOTP || numberOfTOTP <= 0 {
		return nil, nil
	}

	sort.Slice(createTimes, func(i, j int) bool { return createTimes[i] < createTimes[j] })
	threshold := createTimes[numberOfTOTP-1]
	return &threshold, nil
}
