package schema

var legacyTables = []string{
	`CREATE TABLE "Signer" (id INTEGER PRIMARY KEY, name TEXT, key BLOB, points INTEGER)`,
	`CREATE TABLE "AssetPrice" (id INTEGER PRIMARY KEY, price TEXT NOT NULL, block INTEGER NOT NULL)`,
	`CREATE TABLE "SignersOnAssetPrice" ("signerId" INTEGER NOT NULL, "assetPriceId" INTEGER NOT NULL, PRIMARY KEY ("signerId", "assetPriceId"))`,
}

var currentTables = []string{
	`CREATE TABLE signers (id INTEGER PRIMARY KEY, name TEXT, key BLOB, points INTEGER)`,
	`CREATE TABLE assets (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
	`CREATE TABLE asset_prices (id INTEGER PRIMARY KEY, asset_id INTEGER, price TEXT NOT NULL, block INTEGER NOT NULL, signers_count INTEGER, consensus BOOLEAN NOT NULL DEFAULT 0)`,
	`CREATE TABLE signatures (signer_id INTEGER NOT NULL, asset_price_id INTEGER NOT NULL)`,
}
