package loader

import (
	"context"
	"fmt"

	"github.com/helixir/scopus-ingest/internal/database"
	"github.com/helixir/scopus-ingest/internal/scopus"
)

// insertFunding writes the funding links for one paper. Funding stays
// row-wise: entries are low volume and agency resolution branches on which
// identifiers the record carries.
func (l *Loader) insertFunding(ctx context.Context, q database.DBTX, rec *scopus.Record, paperID int64) error {
	for _, funding := range rec.FundingList() {
		agencyID, err := l.resolveFundingAgency(ctx, q, funding)
		if err != nil {
			return err
		}
		if agencyID == nil {
			continue
		}

		grantIDs := make([]*string, 0, len(funding.FundingID))
		for _, g := range funding.FundingID {
			grantIDs = append(grantIDs, g.Ptr())
		}
		if len(grantIDs) == 0 {
			grantIDs = append(grantIDs, nil)
		}

		for _, grantID := range grantIDs {
			if err := l.linkFunding(ctx, q, paperID, *agencyID, grantID); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveFundingAgency returns the internal id of a funding agency,
// upserting by Scopus agency id when present and falling back to a
// name-and-country match otherwise. Entries with neither identifier
// resolve to nil.
func (l *Loader) resolveFundingAgency(ctx context.Context, q database.DBTX, funding scopus.RawFunding) (*int64, error) {
	scopusAgencyID := funding.AgencyID.Ptr()
	name := funding.Agency.Ptr()
	if name == nil && scopusAgencyID != nil {
		synthetic := fmt.Sprintf("scopus_agency_%s", *scopusAgencyID)
		name = &synthetic
	}
	acronym := funding.AgencyAcronym.Ptr()
	country := funding.AgencyCountry.Ptr()

	if scopusAgencyID != nil {
		query := `
			INSERT INTO funding_agencies (agency_name, agency_acronym, agency_country, scopus_agency_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (scopus_agency_id) DO UPDATE SET
				agency_name = COALESCE(EXCLUDED.agency_name, funding_agencies.agency_name),
				agency_acronym = COALESCE(EXCLUDED.agency_acronym, funding_agencies.agency_acronym),
				agency_country = COALESCE(EXCLUDED.agency_country, funding_agencies.agency_country)
			RETURNING agency_id`

		var id int64
		if err := q.QueryRow(ctx, query, name, acronym, country, scopusAgencyID).Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to upsert funding agency %s: %w", *scopusAgencyID, err)
		}
		return &id, nil
	}

	if name == nil {
		return nil, nil
	}

	// Agencies without a Scopus id have no usable conflict target, so match
	// by name and country first and insert only on a miss.
	var id int64
	err := q.QueryRow(ctx,
		`SELECT agency_id FROM funding_agencies WHERE agency_name = $1 AND agency_country IS NOT DISTINCT FROM $2`,
		name, country,
	).Scan(&id)
	if err == nil {
		return &id, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("failed to look up funding agency %q: %w", *name, err)
	}

	err = q.QueryRow(ctx,
		`INSERT INTO funding_agencies (agency_name, agency_acronym, agency_country, scopus_agency_id) VALUES ($1, $2, $3, NULL) RETURNING agency_id`,
		name, acronym, country,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to insert funding agency %q: %w", *name, err)
	}
	return &id, nil
}

// linkFunding writes one paper to agency link. The paper_funding unique
// constraint treats NULL grant ids as equal, so repeated loads of a grantless
// entry stay single-row.
func (l *Loader) linkFunding(ctx context.Context, q database.DBTX, paperID, agencyID int64, grantID *string) error {
	query := `
		INSERT INTO paper_funding (paper_id, agency_id, grant_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (paper_id, agency_id, grant_id) DO NOTHING`

	if _, err := q.Exec(ctx, query, paperID, agencyID, grantID); err != nil {
		return fmt.Errorf("failed to link funding: %w", err)
	}
	l.recordLinkRows("paper_funding", 1)
	return nil
}
